package session

import "golang.org/x/crypto/bcrypt"

// bcryptCheap hashes with the minimum cost to keep tests fast.
func bcryptCheap(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(hash), err
}
