// Package creds resolves username/password pairs against an htpasswd file.
package creds

import (
	"bufio"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// File is a parsed htpasswd file. It is immutable after Load; reloads build a
// fresh File and swap it in.
type File struct {
	users map[string]string
}

// Load reads an htpasswd file. Blank lines and comments are ignored.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	users := make(map[string]string)
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		user, hash, ok := strings.Cut(text, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("%s:%d: malformed entry", path, line)
		}
		users[user] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &File{users: users}, nil
}

// Users returns the number of entries, mainly for logging.
func (f *File) Users() int { return len(f.users) }

// Check reports whether the username/password pair matches an entry. bcrypt
// ($2a$/$2b$/$2y$) and {SHA} hashes are supported; anything else is compared
// as plaintext in constant time.
func (f *File) Check(username, password string) bool {
	hash, ok := f.users[username]
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "{SHA}"):
		sum := sha1.Sum([]byte(password))
		enc := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(enc), []byte(strings.TrimPrefix(hash, "{SHA}"))) == 1
	default:
		return subtle.ConstantTimeCompare([]byte(hash), []byte(password)) == 1
	}
}
