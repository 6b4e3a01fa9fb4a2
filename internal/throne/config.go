package throne

import (
	"fmt"
	"time"
)

// Identity names a principal. Any stable comparable string works: an
// account name, an address or a public key fingerprint.
type Identity string

// None is the distinguished "no identity" value.
const None Identity = ""

func (id Identity) String() string {
	if id == None {
		return "<none>"
	}
	return string(id)
}

// Config holds the values fixed when a game is created.
type Config struct {
	Owner                 Identity      `json:"owner"`
	InitialClaimFee       uint64        `json:"initialClaimFee"`
	GracePeriod           time.Duration `json:"gracePeriod"`
	FeeIncreasePercentage uint64        `json:"feeIncreasePercentage"`
	PlatformFeePercentage uint64        `json:"platformFeePercentage"`
}

// Validate checks the config can produce a game whose fee never sticks at
// zero and whose platform cut never exceeds the payment.
func (c Config) Validate() error {
	if c.Owner == None {
		return fmt.Errorf("%w: owner is required", ErrInvalidConfig)
	}
	if c.InitialClaimFee == 0 {
		return fmt.Errorf("%w: initial claim fee must be positive", ErrInvalidConfig)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace period must be positive, got %s", ErrInvalidConfig, c.GracePeriod)
	}
	if c.FeeIncreasePercentage > 100 {
		return fmt.Errorf("%w: fee increase percentage must be between 0 and 100, got %d", ErrInvalidConfig, c.FeeIncreasePercentage)
	}
	if c.PlatformFeePercentage > 100 {
		return fmt.Errorf("%w: platform fee percentage must be between 0 and 100, got %d", ErrInvalidConfig, c.PlatformFeePercentage)
	}
	return nil
}
