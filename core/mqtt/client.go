package mqtt

import "github.com/kilianp07/arrivalcast/core/model"

// Publisher forwards divergence reports to downstream consumers.
type Publisher interface {
	PublishDivergence(ev model.DivergenceEvent) error
}
