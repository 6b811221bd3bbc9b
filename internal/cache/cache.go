// Package cache holds helpers shared by the record cache backends in its subpackages.
package cache

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// ObjectName returns the file or object name used for id.
func ObjectName(id crawler.RecordID) string {
	return string(id) + ".json"
}

// ValidateID rejects ids that cannot be stored safely as a single path element.
func ValidateID(id crawler.RecordID) error {
	s := string(id)
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("record id is required")
	}
	if s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return fmt.Errorf("invalid record id %q", s)
	}
	return nil
}
