package carrier

const (
	// MaxReputation is the highest reputation score an admin may assign.
	MaxReputation uint8 = 100

	TopicRegistered        = "carrier.registered"
	TopicReputationUpdated = "carrier.reputation_updated"
	TopicActivationChanged = "carrier.activation_changed"
)

// Carrier is a registered capacity provider.
type Carrier struct {
	ID         uint64
	Name       string
	Reputation uint8
	Active     bool
	Owner      string
}

func (c Carrier) WithReputation(score uint8) Carrier {
	c.Reputation = score
	return c
}

func (c Carrier) WithActive(active bool) Carrier {
	c.Active = active
	return c
}
