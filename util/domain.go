package util

import (
	"net/mail"
	"path/filepath"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeAddress lowercases the address and strips the display name ("Name <a@b.com>" -> "a@b.com")
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	return strings.ToLower(address)
}

// EmailDomain returns the domain part of an email address (lowercased)
func EmailDomain(address string) string {
	address = NormalizeAddress(address)
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return address[at+1:]
}

// RegistrableDomain returns eTLD+1 of a domain (mail.example.co.uk -> example.co.uk).
// If it can't be determined the domain is returned as is.
func RegistrableDomain(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return etld1
}

// SenderCandidates returns lookup keys for the sender ordered from most to least specific:
// full address, domain and registrable domain
func SenderCandidates(address string) []string {
	addr := NormalizeAddress(address)
	out := []string{}
	if addr != "" {
		out = append(out, addr)
	}
	domain := EmailDomain(addr)
	if domain != "" {
		out = append(out, domain)
		if reg := RegistrableDomain(domain); reg != "" && reg != domain {
			out = append(out, reg)
		}
	}
	return out
}

// FileExtension returns lowercased extension including the dot
func FileExtension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
