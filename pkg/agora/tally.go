package agora

// Outcome is the evaluation of a tally against the electorate.
type Outcome struct {
	Participation float64 `json:"participation"`
	Approval      float64 `json:"approval"`
	Passed        bool    `json:"passed"`
}

// Evaluate decides a tally. Participation is cast weight over totalPower;
// approval is yes votes over votes cast, abstentions included, so weight
// decides quorum and heads decide approval. An empty electorate never
// passes.
func Evaluate(t Tally, totalPower, quorum, approval float64) Outcome {
	var out Outcome
	cast := t.Weight()
	if totalPower <= 0 || cast <= 0 || t.Votes() == 0 {
		return out
	}
	out.Participation = cast / totalPower
	out.Approval = float64(t.Yes) / float64(t.Votes())
	out.Passed = out.Participation >= quorum && out.Approval >= approval
	return out
}
