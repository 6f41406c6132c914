package platform

const (
	// MaxFeePercent caps the platform fee.
	MaxFeePercent uint8 = 20

	// ConfigKey is the key of the singleton config record.
	ConfigKey = "platform"

	TopicFeeUpdated   = "platform.fee_updated"
	TopicAdminChanged = "platform.admin_changed"
)

// Config is the process-wide marketplace configuration.
type Config struct {
	Admin       string
	FeePercent  uint8
	CurrentTime uint64
}

func (c Config) WithFee(percent uint8) Config {
	c.FeePercent = percent
	return c
}

func (c Config) WithAdmin(admin string) Config {
	c.Admin = admin
	return c
}

func (c Config) WithCurrentTime(t uint64) Config {
	c.CurrentTime = t
	return c
}

// Fee splits price into the platform cut, rounded down, and the carrier's share.
func (c Config) Fee(price uint64) (platformFee, carrierPayment uint64) {
	platformFee = price * uint64(c.FeePercent) / 100
	return platformFee, price - platformFee
}
