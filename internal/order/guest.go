package order

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/storefront/internal/model"
)

const guestTokenBytes = 32

// newGuestToken возвращает токен доступа гостя и его bcrypt-хеш.
func newGuestToken() (string, []byte, error) {
	raw := make([]byte, guestTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate guest token: %w", err)
	}
	token := hex.EncodeToString(raw)

	// bcrypt принимает не больше 72 байт, hex-токен занимает 64.
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash guest token: %w", err)
	}
	return token, hash, nil
}

// guestCanAccess проверяет токен или контакты гостя.
func guestCanAccess(o *model.Order, access GuestAccess, now time.Time) bool {
	if !o.IsGuest() {
		return false
	}

	if access.Token != "" && len(o.GuestTokenHash) > 0 {
		expired := o.GuestTokenExpiresAt != nil && now.After(*o.GuestTokenExpiresAt)
		if !expired && bcrypt.CompareHashAndPassword(o.GuestTokenHash, []byte(access.Token)) == nil {
			return true
		}
	}

	if o.Guest == nil {
		return false
	}
	if access.Email != "" && o.Guest.Email != "" && strings.EqualFold(access.Email, o.Guest.Email) {
		return true
	}
	if access.Phone != "" && o.Guest.Phone != "" {
		return subtle.ConstantTimeCompare([]byte(normalizePhone(access.Phone)), []byte(normalizePhone(o.Guest.Phone))) == 1
	}
	return false
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
