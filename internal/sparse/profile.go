package sparse

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/knoguchi/hybridkb/internal/kberrors"
)

//go:embed default_profile.json
var defaultProfileJSON []byte

// Profile holds the corpus statistics a BM25Encoder is built from.
// DocFreq is keyed by raw terms; they are normalised with the encoder's
// analyzer when the encoder is created.
type Profile struct {
	K1        float64            `json:"k1"`
	B         float64            `json:"b"`
	AvgDocLen float64            `json:"avgdl"`
	NumDocs   int64              `json:"n_docs"`
	DocFreq   map[string]float64 `json:"doc_freq"`
}

func (p *Profile) validate() error {
	if p == nil {
		return kberrors.Configuration("BM25 profile is nil")
	}
	if p.NumDocs <= 0 {
		return kberrors.Configuration("BM25 profile n_docs must be positive, got %d", p.NumDocs)
	}
	if p.AvgDocLen <= 0 {
		return kberrors.Configuration("BM25 profile avgdl must be positive, got %v", p.AvgDocLen)
	}
	return nil
}

// ParseProfile decodes a JSON document-frequency profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, kberrors.Configuration("failed to decode BM25 profile: %v", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadBM25 builds an encoder from the profile stored at path.
func LoadBM25(path string) (*BM25Encoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kberrors.Configuration("failed to read BM25 profile %q: %v", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("BM25 profile %q: %w", path, err)
	}
	return NewBM25Encoder(p)
}

// DefaultBM25 builds an encoder from the built-in profile, approximate
// statistics of a general English web passage corpus.
func DefaultBM25() (*BM25Encoder, error) {
	p, err := ParseProfile(defaultProfileJSON)
	if err != nil {
		return nil, fmt.Errorf("default BM25 profile: %w", err)
	}
	return NewBM25Encoder(p)
}
