package registry

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	aliasSeparator = ";"
	pubkeyPrefix   = "0x"
	pubkeyHexLen   = 96 // 48 bytes, BLS public key length.
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RawIdentifier is a user-supplied token before resolution against the
// beacon node's active validator set.
type RawIdentifier struct {
	// IndexOrPubkey is either a decimal index or a "0x"-prefixed 48-byte pubkey.
	IndexOrPubkey string
	// Alias is the optional display name carried after ";".
	Alias string
	// IsPubkey is true when IndexOrPubkey is a pubkey rather than a decimal index.
	IsPubkey bool
}

// ParseRaw parses a single raw token per spec.md §4.4. isLogged controls
// whether malformed tokens are logged (REST callers suppress logging of
// tokens the caller will see reflected back in the 400 body anyway).
func ParseRaw(log logrus.FieldLogger, token string, isLogged bool) (RawIdentifier, bool) {
	if strings.ContainsAny(token, ".,") {
		if isLogged {
			log.WithField("token", token).Warn("skipping identifier with disallowed characters")
		}

		return RawIdentifier{}, false
	}

	indexOrPubkey := token
	alias := ""

	if idx := strings.Index(token, aliasSeparator); idx >= 0 {
		indexOrPubkey = strings.ReplaceAll(token[:idx], " ", "")
		alias = strings.ReplaceAll(token[idx+1:], " ", "")

		if alias == "" || !aliasPattern.MatchString(alias) {
			if isLogged {
				log.WithField("token", token).Warn("skipping identifier with malformed alias")
			}

			return RawIdentifier{}, false
		}
	}

	if strings.HasPrefix(indexOrPubkey, pubkeyPrefix) {
		hexPart := indexOrPubkey[len(pubkeyPrefix):]
		if !isValidPubkeyHex(hexPart) {
			if isLogged {
				log.WithField("token", token).Warn("skipping identifier with malformed pubkey")
			}

			return RawIdentifier{}, false
		}

		return RawIdentifier{IndexOrPubkey: indexOrPubkey, Alias: alias, IsPubkey: true}, true
	}

	if isAllDigits(indexOrPubkey) {
		return RawIdentifier{IndexOrPubkey: indexOrPubkey, Alias: alias, IsPubkey: false}, true
	}

	if isLogged {
		log.WithField("token", token).Warn("skipping malformed identifier")
	}

	return RawIdentifier{}, false
}

func isValidPubkeyHex(hexPart string) bool {
	if len(hexPart) != pubkeyHexLen {
		return false
	}

	_, err := hex.DecodeString(hexPart)

	return err == nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
