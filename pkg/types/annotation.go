package types

// VariantAnnotation is a VEP annotation for a single requested variant identifier.
// VariantID holds the identifier the annotation was requested for and is the
// primary key of the persisted document.
type VariantAnnotation struct {
	VariantID              string                  `json:"input"`
	ID                     string                  `json:"id,omitempty"`
	AssemblyName           string                  `json:"assembly_name,omitempty"`
	SeqRegionName          string                  `json:"seq_region_name,omitempty"`
	Start                  int                     `json:"start,omitempty"`
	End                    int                     `json:"end,omitempty"`
	Strand                 int                     `json:"strand,omitempty"`
	AlleleString           string                  `json:"allele_string,omitempty"`
	MostSevereConsequence  string                  `json:"most_severe_consequence,omitempty"`
	TranscriptConsequences []TranscriptConsequence `json:"transcript_consequences,omitempty"`
}

// TranscriptConsequence describes the effect of a variant on one transcript.
type TranscriptConsequence struct {
	TranscriptID       string   `json:"transcript_id"`
	GeneID             string   `json:"gene_id,omitempty"`
	GeneSymbol         string   `json:"gene_symbol,omitempty"`
	ProteinStart       int      `json:"protein_start,omitempty"`
	ProteinEnd         int      `json:"protein_end,omitempty"`
	AminoAcids         string   `json:"amino_acids,omitempty"`
	HGVSp              string   `json:"hgvsp,omitempty"`
	HGVSc              string   `json:"hgvsc,omitempty"`
	ConsequenceTerms   []string `json:"consequence_terms,omitempty"`
	Canonical          int      `json:"canonical,omitempty"`
	VariantAllele      string   `json:"variant_allele,omitempty"`
	PolyphenPrediction string   `json:"polyphen_prediction,omitempty"`
	SiftPrediction     string   `json:"sift_prediction,omitempty"`
}

// AminoAcidPosition is an explicit protein position range reported by the
// hotspots provider for some hotspot types.
type AminoAcidPosition struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Hotspot is a recurrently mutated protein residue on a transcript.
type Hotspot struct {
	HugoSymbol        string             `json:"hugoSymbol"`
	TranscriptID      string             `json:"transcriptId"`
	Residue           string             `json:"residue"`
	Type              string             `json:"type,omitempty"`
	TumorCount        int                `json:"tumorCount,omitempty"`
	MissenseCount     int                `json:"missenseCount,omitempty"`
	TruncatingCount   int                `json:"truncatingCount,omitempty"`
	InframeCount      int                `json:"inframeCount,omitempty"`
	SpliceCount       int                `json:"spliceCount,omitempty"`
	AminoAcidPosition *AminoAcidPosition `json:"aminoAcidPosition,omitempty"`
}

// Position returns the protein range covered by the hotspot. The explicit
// amino acid position wins over the residue label.
func (h Hotspot) Position() (start, end int, ok bool) {
	if p := h.AminoAcidPosition; p != nil && p.Start > 0 {
		end := p.End
		if end < p.Start {
			end = p.Start
		}
		return p.Start, end, true
	}
	return ParseResidue(h.Residue)
}

// AnnotatedHotspot is a hotspot matched against a transcript consequence. The
// embedded Hotspot is a copy of the cached entry; the remaining fields come
// from the consequence the hotspot was matched against.
type AnnotatedHotspot struct {
	Hotspot
	GeneID       string `json:"geneId,omitempty"`
	ProteinStart int    `json:"proteinStart"`
	ProteinEnd   int    `json:"proteinEnd"`
}
