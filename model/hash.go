package model

import (
	"bitwise74/media-store/util"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// GenerateHash assigns the identifier that path generation runs on: an
// HMAC-SHA256 over the client metadata plus fresh entropy, keyed with
// hash.secret. It identifies the record, it does not checksum the content,
// so two uploads of identical bytes still end up under different paths.
func (f *StoredFile) GenerateHash() error {
	secret := viper.GetString("hash.secret")
	if secret == "" {
		return errors.New("hash.secret is not set")
	}

	entropy, err := util.RandomHex(8)
	if err != nil {
		return fmt.Errorf("failed to generate hash entropy, %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s\x00%d\x00%s\x00%s", f.OriginalFilename, f.Size, f.MimeType, entropy)

	f.Hash = hex.EncodeToString(mac.Sum(nil))
	return nil
}
