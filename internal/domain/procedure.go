package domain

// Procedure is a surgical procedure from the externally maintained
// catalogue. RVU is the relative value unit a ProcedureTerm multiplies by.
type Procedure struct {
	CptCode          string  `json:"cptCode" yaml:"cptCode" validate:"required,max=10,alphanum"`
	RVU              float64 `json:"rvu" yaml:"rvu" validate:"gte=0"`
	ShortDescription string  `json:"shortDescription" yaml:"shortDescription" validate:"max=256"`
	LongDescription  string  `json:"longDescription" yaml:"longDescription" validate:"max=256"`
	Complexity       string  `json:"complexity,omitempty" yaml:"complexity,omitempty" validate:"max=40"`
}

// DisplayString renders the procedure as "CPT - short description".
func (p Procedure) DisplayString() string {
	if p.ShortDescription == "" {
		return p.CptCode
	}
	return p.CptCode + " - " + p.ShortDescription
}
