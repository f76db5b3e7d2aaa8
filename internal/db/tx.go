package db

// MutationKind selects the write command of a Mutation.
type MutationKind int

const (
	// MutHSet sets hash fields on Key.
	MutHSet MutationKind = iota
	// MutSAdd adds Members to the set at Key.
	MutSAdd
	// MutSRem removes Members from the set at Key.
	MutSRem
	// MutDel deletes Keys.
	MutDel
)

// Mutation is a single write inside an atomic batch.
type Mutation struct {
	Kind    MutationKind
	Key     string
	Fields  map[string]string
	Members []string
	Keys    []string
}

// HSetOp builds an HSET mutation.
func HSetOp(key string, fields map[string]string) Mutation {
	return Mutation{Kind: MutHSet, Key: key, Fields: fields}
}

// SAddOp builds an SADD mutation.
func SAddOp(key string, members ...string) Mutation {
	return Mutation{Kind: MutSAdd, Key: key, Members: members}
}

// SRemOp builds an SREM mutation.
func SRemOp(key string, members ...string) Mutation {
	return Mutation{Kind: MutSRem, Key: key, Members: members}
}

// DelOp builds a DEL mutation over keys.
func DelOp(keys ...string) Mutation {
	return Mutation{Kind: MutDel, Keys: keys}
}

// Empty reports whether applying m would be a no-op.
func (m Mutation) Empty() bool {
	switch m.Kind {
	case MutHSet:
		return len(m.Fields) == 0
	case MutSAdd, MutSRem:
		return len(m.Members) == 0
	case MutDel:
		return len(m.Keys) == 0
	}
	return true
}
