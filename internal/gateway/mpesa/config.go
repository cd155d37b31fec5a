package mpesa

import "time"

const (
	SandboxURL    = "https://sandbox.safaricom.co.ke"
	ProductionURL = "https://api.safaricom.co.ke"

	defaultTransactionType   = "CustomerPayBillOnline"
	defaultCountryCode       = "254"
	defaultRequestTimeout    = 30 * time.Second
	defaultTokenSafetyMargin = 60 * time.Second
)

// EAT is East Africa Time, the zone the provider stamps requests and receipts in.
var EAT = time.FixedZone("EAT", 3*60*60)

// Config is everything the client needs to talk to the Daraja API.
type Config struct {
	BaseURL           string
	ConsumerKey       string
	ConsumerSecret    string
	ShortCode         string
	Passkey           string
	CallbackURL       string
	TransactionType   string
	CountryCode       string
	RequestTimeout    time.Duration
	TokenSafetyMargin time.Duration
	Location          *time.Location
}

// BaseURLFor returns the API host for an environment name.
func BaseURLFor(environment string) string {
	if environment == "production" {
		return ProductionURL
	}

	return SandboxURL
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = SandboxURL
	}
	if c.TransactionType == "" {
		c.TransactionType = defaultTransactionType
	}
	if c.CountryCode == "" {
		c.CountryCode = defaultCountryCode
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.TokenSafetyMargin <= 0 {
		c.TokenSafetyMargin = defaultTokenSafetyMargin
	}
	if c.Location == nil {
		c.Location = EAT
	}

	return c
}
