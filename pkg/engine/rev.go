package engine

import (
	"strconv"
	"strings"

	"github.com/gofrs/uuid"

	"github.com/shelfdb/shelfdb.go/internal/rand"
)

const revTokenLength = 32

// NewRev returns a revision of the given generation, "<n>-<token>".
func NewRev(generation int) string {
	return strconv.Itoa(generation) + "-" + rand.Token(revTokenLength)
}

// Generation parses the generation prefix of rev, 0 when there is none.
func Generation(rev string) int {
	prefix, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}

// NewID returns a random UUIDv4 string for documents written without an id.
func NewID() string {
	return uuid.Must(uuid.NewV4()).String()
}
