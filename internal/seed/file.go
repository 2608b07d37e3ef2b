// Package seed loads a YAML fixture of accounts, categories, allocations,
// transactions, schedules and goals into the ledger. Entries reference each
// other by name.
package seed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"famfin/internal/core"
)

// File is the root of a seed document.
type File struct {
	Accounts     []Account     `yaml:"accounts"`
	Categories   []Category    `yaml:"categories"`
	Allocations  []Allocation  `yaml:"allocations"`
	Transactions []Transaction `yaml:"transactions"`
	Recurring    []Recurring   `yaml:"recurring"`
	Goals        []Goal        `yaml:"goals"`
}

type Account struct {
	Name string           `yaml:"name"`
	Type core.AccountType `yaml:"type"`
	// Tracking accounts are off budget.
	Tracking bool `yaml:"tracking,omitempty"`
}

type Category struct {
	Name    string `yaml:"name"`
	Emoji   string `yaml:"emoji,omitempty"`
	Header  bool   `yaml:"header,omitempty"`
	Parent  string `yaml:"parent,omitempty"`
	Created *Date  `yaml:"created,omitempty"`
}

type Allocation struct {
	Category string     `yaml:"category"`
	Month    core.Month `yaml:"month"`
	Amount   core.Money `yaml:"amount"`
}

type Transaction struct {
	Date       Date                 `yaml:"date"`
	Type       core.TransactionType `yaml:"type"`
	Amount     core.Money           `yaml:"amount"`
	Payee      string               `yaml:"payee"`
	Memo       string               `yaml:"memo,omitempty"`
	Account    string               `yaml:"account"`
	Category   string               `yaml:"category,omitempty"`
	TransferTo string               `yaml:"transfer_to,omitempty"`
	Cleared    bool                 `yaml:"cleared,omitempty"`
}

type Recurring struct {
	Type       core.TransactionType `yaml:"type"`
	Amount     core.Money           `yaml:"amount"`
	Payee      string               `yaml:"payee"`
	Memo       string               `yaml:"memo,omitempty"`
	Account    string               `yaml:"account"`
	Category   string               `yaml:"category,omitempty"`
	TransferTo string               `yaml:"transfer_to,omitempty"`
	Frequency  core.Frequency       `yaml:"frequency"`
	Interval   int                  `yaml:"interval,omitempty"`
	Anchor     Date                 `yaml:"anchor"`
	End        *Date                `yaml:"end,omitempty"`
}

type Goal struct {
	Name       string     `yaml:"name"`
	Target     core.Money `yaml:"target"`
	TargetDate *Date      `yaml:"target_date,omitempty"`
	Category   string     `yaml:"category,omitempty"`
}

// Date is a civil day written as YYYY-MM-DD, stored at UTC midnight.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("date %q is not YYYY-MM-DD", string(b))
	}
	d.Time = t
	return nil
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.Format("2006-01-02")), nil
}

func (d *Date) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a seed document, rejecting unknown fields.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &f, nil
}
