package services

import (
	"fmt"
	"math/rand"
	"strings"

	"treasure-hunt-system/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// No 0/O or 1/I so codes survive being read aloud or retyped.
const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	referralSuffixLen   = 6
	referralPrefixLen   = 4
	maxReferralAttempts = 25
)

// generateReferralCode builds PREFIX-XXXXXX, the prefix taken from the promoter's name.
func generateReferralCode(name string) string {
	prefix := referralPrefix(name)

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('-')
	for i := 0; i < referralSuffixLen; i++ {
		b.WriteByte(referralAlphabet[rand.Intn(len(referralAlphabet))])
	}
	return b.String()
}

func referralPrefix(name string) string {
	var letters []rune
	for _, r := range slug.Make(name) {
		if r >= 'a' && r <= 'z' {
			letters = append(letters, r)
			if len(letters) == referralPrefixLen {
				break
			}
		}
	}
	if len(letters) == 0 {
		return "HUNT"
	}
	return strings.ToUpper(string(letters))
}

// AllocateReferralCode returns a code not used by any promoter. Codes are
// compared case-insensitively. Run it inside the approving transaction so the
// unique index catches any race.
func AllocateReferralCode(tx *gorm.DB, name string) (string, error) {
	return allocateReferralCode(tx, name, generateReferralCode)
}

func allocateReferralCode(tx *gorm.DB, name string, gen func(string) string) (string, error) {
	for attempt := 0; attempt < maxReferralAttempts; attempt++ {
		code := gen(name)

		var count int64
		if err := tx.Unscoped().Model(&models.Promoter{}).
			Where("UPPER(referral_code) = ?", strings.ToUpper(code)).
			Count(&count).Error; err != nil {
			return "", fmt.Errorf("referral code lookup: %w", err)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", ErrReferralCodeExhausted
}
