package knowledge

// Key layout for one collection. The {collection} hash tag pins every key of a
// collection to a single cluster slot so MULTI/EXEC can span them.
//
//	<prefix>{<collection>}:chunk:<id>    hash {text, source, vector}
//	<prefix>{<collection>}:src:<source>  set of chunk ids
//	<prefix>{<collection>}:sources       set of source names
//	<prefix><collection>:idx             FT index over chunk hashes

const (
	fieldText   = "text"
	fieldSource = "source"
	fieldVector = "vector"
)

type keys struct {
	prefix     string
	collection string
}

func (k keys) base() string { return k.prefix + "{" + k.collection + "}:" }

func (k keys) chunkPrefix() string { return k.base() + "chunk:" }
func (k keys) chunk(id string) string { return k.chunkPrefix() + id }
func (k keys) sourcePrefix() string { return k.base() + "src:" }
func (k keys) source(name string) string { return k.sourcePrefix() + name }
func (k keys) sources() string { return k.base() + "sources" }
func (k keys) index() string { return k.prefix + k.collection + ":idx" }
