package vectorstore

import "github.com/knoguchi/hybridkb/internal/models"

type candidate struct {
	doc       models.KBDocument
	dense     float32
	sparse    float32
	hasDense  bool
	hasSparse bool
}

// candidateSet accumulates per-vector scores for points found by separate
// dense and sparse searches.
type candidateSet struct {
	byID  map[string]*candidate
	order []string
}

func newCandidateSet() *candidateSet {
	return &candidateSet{byID: make(map[string]*candidate)}
}

func (c *candidateSet) get(id string, doc models.KBDocument) *candidate {
	if cand, ok := c.byID[id]; ok {
		return cand
	}
	cand := &candidate{doc: doc}
	c.byID[id] = cand
	c.order = append(c.order, id)
	return cand
}

func (c *candidateSet) addDense(id string, doc models.KBDocument, score float32) {
	c.setScore(c.get(id, doc), score, true)
}

func (c *candidateSet) addSparse(id string, doc models.KBDocument, score float32) {
	c.setScore(c.get(id, doc), score, false)
}

// setDense records a dense score for a known candidate. Unknown IDs are ignored.
func (c *candidateSet) setDense(id string, score float32) {
	if cand, ok := c.byID[id]; ok {
		c.setScore(cand, score, true)
	}
}

// setSparse records a sparse score for a known candidate. Unknown IDs are ignored.
func (c *candidateSet) setSparse(id string, score float32) {
	if cand, ok := c.byID[id]; ok {
		c.setScore(cand, score, false)
	}
}

func (c *candidateSet) setScore(cand *candidate, score float32, dense bool) {
	if dense {
		cand.dense, cand.hasDense = score, true
	} else {
		cand.sparse, cand.hasSparse = score, true
	}
}

func (c *candidateSet) missingDense() []string {
	var ids []string
	for _, id := range c.order {
		if !c.byID[id].hasDense {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *candidateSet) missingSparse() []string {
	var ids []string
	for _, id := range c.order {
		if !c.byID[id].hasSparse {
			ids = append(ids, id)
		}
	}
	return ids
}

// top returns the topK candidates by summed score. A missing half counts
// as zero.
func (c *candidateSet) top(topK int) []models.KBDocument {
	docs := make([]models.KBDocument, 0, len(c.order))
	for _, id := range c.order {
		cand := c.byID[id]
		doc := cand.doc
		doc.Score = cand.dense + cand.sparse
		docs = append(docs, doc)
	}
	sortByScore(docs)
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs
}
