package company

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type accountEntry struct {
	AccountID   string `yaml:"account_id"`
	CompanyID   string `yaml:"company_id"`
	CompanyName string `yaml:"company_name"`
	AccessToken string `yaml:"access_token"`
}

// LoadAccounts reads channel accounts for a MemoryDirectory from a YAML file.
func LoadAccounts(path string) ([]ChannelAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("company: read accounts: %w", err)
	}
	return ParseAccounts(data)
}

// ParseAccounts decodes an `accounts:` YAML list. Account and company ids are
// required and account ids must be unique.
func ParseAccounts(data []byte) ([]ChannelAccount, error) {
	var doc struct {
		Accounts []accountEntry `yaml:"accounts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("company: decode accounts: %w", err)
	}
	seen := make(map[string]bool, len(doc.Accounts))
	out := make([]ChannelAccount, 0, len(doc.Accounts))
	for i, e := range doc.Accounts {
		acct := ChannelAccount{
			AccountID:   strings.TrimSpace(e.AccountID),
			CompanyID:   strings.TrimSpace(e.CompanyID),
			CompanyName: strings.TrimSpace(e.CompanyName),
			AccessToken: strings.TrimSpace(e.AccessToken),
		}
		if acct.AccountID == "" || acct.CompanyID == "" {
			return nil, fmt.Errorf("company: account %d needs account_id and company_id", i)
		}
		if seen[acct.AccountID] {
			return nil, fmt.Errorf("company: duplicate account %q", acct.AccountID)
		}
		seen[acct.AccountID] = true
		out = append(out, acct)
	}
	return out, nil
}
