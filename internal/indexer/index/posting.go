package index

// Posting links a term to one document and the term's frequency there.
type Posting struct {
	DocID     string `json:"d"`
	Frequency int    `json:"f"`
}

type PostingList []Posting

// DocStats is the forward-index view of one document: the store version
// its postings were built from, its token count and its term frequencies.
type DocStats struct {
	DocID  string
	Seq    uint64
	Length int
	Terms  map[string]int
}

// Field is one named piece of indexable text.
type Field struct {
	Name string
	Text string
}

// Match is what a lookup reports for one candidate document.
type Match struct {
	Seq       uint64
	Length    int
	TermFreqs map[string]int
}

// Snapshot is a consistent view of the corpus statistics and of every
// document matching at least one looked-up term.
type Snapshot struct {
	TotalDocs    int
	AvgDocLength float64
	DocFreq      map[string]int
	Matches      map[string]Match
}
