package ports

// Piece is one chunk of text produced by a Chunker, before ids and hashes
// are assigned by the bundle builder.
type Piece struct {
	StartLine int
	EndLine   int
	Text      string
}

// Chunker splits one decoded source file into pieces.
//
//go:generate mockgen -source=chunker.go -destination=mocks/mock_chunker.go -package=mocks
type Chunker interface {
	// Name returns the strategy name matched against BundleSpec.Strategy.
	Name() string

	// Split divides text into pieces of at most maxChars characters.
	// It must be a pure function of its inputs.
	Split(text string, maxChars int) []Piece
}
