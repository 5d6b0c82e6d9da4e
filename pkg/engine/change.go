package engine

type Action string

const (
	CreateAction Action = "CREATE"
	UpdateAction Action = "UPDATE"
	DeleteAction Action = "DELETE"
)

// Change is one committed write as seen by a feed.
type Change struct {
	Seq    int64  `json:"seq"`
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Action Action `json:"action"`
	Doc    Doc    `json:"doc,omitempty"`
}

// Feed delivers changes in commit order. Events is closed after Cancel or
// after the feed fails, in which case Err reports why.
type Feed interface {
	Events() <-chan Change
	Err() error
	Cancel()
}
