package unblending

import "fmt"

// CompOp is the Porter-Duff operator used to accumulate a layer onto the
// composite of the layers below it.
type CompOp int

const (
	// SourceOver places the layer over the backdrop. Fa = 1, Fb = 1 - as.
	SourceOver CompOp = iota
	// SourceAtop keeps the backdrop coverage. Fa = ab, Fb = 1 - as.
	SourceAtop
	// DestinationOver places the backdrop over the layer. Fa = 1 - ab, Fb = 1.
	DestinationOver

	numCompOps
)

var compOpNames = [numCompOps]string{
	SourceOver:      "SourceOver",
	SourceAtop:      "SourceAtop",
	DestinationOver: "DestinationOver",
}

func CompOps() []CompOp {
	out := make([]CompOp, numCompOps)
	for i := range out {
		out[i] = CompOp(i)
	}
	return out
}

func (op CompOp) Valid() bool {
	return op >= 0 && op < numCompOps
}

func (op CompOp) String() string {
	if !op.Valid() {
		return fmt.Sprintf("CompOp(%d)", int(op))
	}
	return compOpNames[op]
}

// ParseCompOp accepts names case-insensitively and ignores separators.
func ParseCompOp(s string) (CompOp, error) {
	key := normalizeName(s)
	for i, name := range compOpNames {
		if normalizeName(name) == key {
			return CompOp(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompOp, s)
}

func (op CompOp) MarshalText() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompOp, int(op))
	}
	return []byte(op.String()), nil
}

func (op *CompOp) UnmarshalText(text []byte) error {
	v, err := ParseCompOp(string(text))
	if err != nil {
		return err
	}
	*op = v
	return nil
}

// factors returns the Porter-Duff coefficients (Fa, Fb) for source alpha as
// and backdrop alpha ab.
func (op CompOp) factors(as, ab float64) (fa, fb float64) {
	switch op {
	case SourceAtop:
		return ab, 1 - as
	case DestinationOver:
		return 1 - ab, 1
	default:
		return 1, 1 - as
	}
}
