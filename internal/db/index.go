package db

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DistanceMetric used by FT.SEARCH vector similarity queries.
type DistanceMetric string

const (
	// DistanceL2 is Euclidean distance.
	DistanceL2 DistanceMetric = "L2"
	// DistanceIP is inner product distance.
	DistanceIP DistanceMetric = "IP"
	// DistanceCosine is cosine distance: 1 - cosine similarity, range [0, 2].
	DistanceCosine DistanceMetric = "COSINE"
)

// VectorAlgorithm selects the indexing algorithm for vector fields in FT.CREATE.
type VectorAlgorithm string

const (
	// VectorHNSW uses the HNSW algorithm.
	VectorHNSW VectorAlgorithm = "HNSW"
	// VectorFlat uses the FLAT (brute-force) algorithm.
	VectorFlat VectorAlgorithm = "FLAT"
)

// ParseVectorAlgorithm maps a config value ("hnsw", "flat") to a VectorAlgorithm.
func ParseVectorAlgorithm(s string) (VectorAlgorithm, error) {
	switch strings.ToLower(s) {
	case "", "hnsw":
		return VectorHNSW, nil
	case "flat":
		return VectorFlat, nil
	}
	return "", errors.New("unknown vector algorithm " + strconv.Quote(s))
}

// FieldKind enumerates the FT schema field types the knowledge base uses.
// The zero value is invalid.
type FieldKind int

const (
	// FieldVector is a FLOAT32 VECTOR field.
	FieldVector FieldKind = iota + 1
)

// VectorSpec describes a VECTOR field. Zero Algorithm means HNSW, zero
// Distance means COSINE; zero tuning values keep the server defaults.
type VectorSpec struct {
	Algorithm      VectorAlgorithm
	Dim            int
	Distance       DistanceMetric
	M              int // HNSW: max edges per node
	EFConstruction int // HNSW: candidate list size while building
	BlockSize      int // FLAT
}

// IndexField is one entry of an FT index schema.
type IndexField struct {
	Name   string
	Kind   FieldKind
	Vector VectorSpec
}

// IndexDefinition is an FT index over HASH keys.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []IndexField
}

// Validate checks that the index definition is well-formed.
func (d *IndexDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("index name is required")
	}
	if !validIdentifier(d.Name) {
		return errors.New("index name contains invalid characters")
	}
	if len(d.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	seen := make(map[string]struct{}, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field name is required at index %d", i)
		}
		if _, dup := seen[f.Name]; dup {
			return errors.New("duplicate field name: " + f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Kind != FieldVector {
			return fmt.Errorf("field %s has unknown kind %d", f.Name, f.Kind)
		}
		if f.Vector.Dim <= 0 {
			return fmt.Errorf("vector field %s requires positive DIM", f.Name)
		}
	}
	return nil
}

// Args renders the FT.CREATE arguments (everything after the command name).
func (d *IndexDefinition) Args() ([]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	args := []string{d.Name, "ON", "HASH"}
	if len(d.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(d.Prefixes)))
		args = append(args, d.Prefixes...)
	}
	args = append(args, "SCHEMA")
	for i := range d.Fields {
		args = d.Fields[i].appendArgs(args)
	}
	return args, nil
}

// String returns the FT.CREATE command for debugging.
func (d *IndexDefinition) String() string {
	args, err := d.Args()
	if err != nil {
		return "FT.CREATE <invalid: " + err.Error() + ">"
	}
	return "FT.CREATE " + strings.Join(args, " ")
}

func (f *IndexField) appendArgs(args []string) []string {
	args = append(args, f.Name)
	v := f.Vector
	algo := cmp.Or(v.Algorithm, VectorHNSW)
	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(v.Dim),
		"DISTANCE_METRIC", string(cmp.Or(v.Distance, DistanceCosine)),
	}
	switch algo {
	case VectorHNSW:
		if v.M > 0 {
			attrs = append(attrs, "M", strconv.Itoa(v.M))
		}
		if v.EFConstruction > 0 {
			attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(v.EFConstruction))
		}
	case VectorFlat:
		if v.BlockSize > 0 {
			attrs = append(attrs, "BLOCK_SIZE", strconv.Itoa(v.BlockSize))
		}
	}
	args = append(args, "VECTOR", string(algo), strconv.Itoa(len(attrs)))
	return append(args, attrs...)
}

// validIdentifier reports whether s matches [a-zA-Z0-9_:-]+. Braces are
// excluded: hash tags belong in key prefixes, not index names.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		isSpecial := r == '_' || r == ':' || r == '-'
		if !isAlpha && !isDigit && !isSpecial {
			return false
		}
	}
	return true
}
