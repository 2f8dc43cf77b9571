package scoring

import (
	"fmt"

	"credential_verifier/internal/model"
)

// Thresholds - границы автоматического решения по итоговому баллу
type Thresholds struct {
	High int
	Low  int
}

var DefaultThresholds = Thresholds{High: 80, Low: 30}

func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 100 || t.Low >= t.High {
		return fmt.Errorf("invalid thresholds: low=%d high=%d", t.Low, t.High)
	}
	return nil
}

// Decide выбирает статус после скоринга. Документ без текста всегда уходит на ручную проверку,
// даже если балл ниже нижней границы.
func (t Thresholds) Decide(score int, extraction *model.ExtractionResult) model.Status {
	if extraction.Empty() {
		return model.StatusManualReview
	}
	switch {
	case score >= t.High:
		return model.StatusVerified
	case score <= t.Low:
		return model.StatusRejected
	default:
		return model.StatusManualReview
	}
}
