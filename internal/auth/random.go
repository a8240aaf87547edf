package auth

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// RFC 7636 unreserved
	verifierAlphabet = alphanumeric + "-._~"

	stateTokenLength   = 64
	sessionIDLength    = 64
	pkceVerifierLength = 128
)

// randomString は暗号論的乱数からalphabetの文字でn文字の文字列を生成する。
// 剰余の偏りを避けるため、alphabetの長さの倍数を超えるバイトは捨てる。
func randomString(n int, alphabet string) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/4)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// generateStateToken はOIDCのstateパラメータを生成する。
func generateStateToken() (string, error) {
	return randomString(stateTokenLength, alphanumeric)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	return randomString(sessionIDLength, alphanumeric)
}

// generatePKCEVerifier はPKCEのcode_verifierを生成する。
func generatePKCEVerifier() (string, error) {
	return randomString(pkceVerifierLength, verifierAlphabet)
}

// PKCEChallenge はverifierからS256方式のcode_challengeを計算する。
func PKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
