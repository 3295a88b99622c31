package domain

// Bank identifies one of the external banking systems the aggregator
// integrates with. The set is fixed; ids match the bank registry used by the
// sandbox environment.
type Bank int

const (
	BankVBank Bank = 1
	BankSBank Bank = 2
	BankABank Bank = 3
)

var bankNames = map[Bank]string{
	BankVBank: "vbank",
	BankSBank: "sbank",
	BankABank: "abank",
}

var bankBaseURLs = map[Bank]string{
	BankVBank: "https://vbank.open.bankingapi.ru",
	BankSBank: "https://sbank.open.bankingapi.ru",
	BankABank: "https://abank.open.bankingapi.ru",
}

// AllBanks lists every integrated bank in id order.
func AllBanks() []Bank {
	return []Bank{BankVBank, BankSBank, BankABank}
}

// Valid reports whether b is a known bank id.
func (b Bank) Valid() bool {
	_, ok := bankNames[b]
	return ok
}

// Name returns the short bank name, e.g. "vbank".
func (b Bank) Name() string {
	if name, ok := bankNames[b]; ok {
		return name
	}
	return "vbank"
}

// DefaultBaseURL returns the bank's API base URL used when no override is
// configured.
func (b Bank) DefaultBaseURL() string {
	if u, ok := bankBaseURLs[b]; ok {
		return u
	}
	return bankBaseURLs[BankVBank]
}

// BankFromName resolves a short bank name back to its id.
func BankFromName(name string) (Bank, bool) {
	for id, n := range bankNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}
