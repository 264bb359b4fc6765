package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
)

// HMACSHA256 returns the raw HMAC-SHA256 of payload.
func HMACSHA256(secret []byte, payload string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// HMACSHA256Hex 十六进制签名（Binance / MEXC）
func HMACSHA256Hex(secret []byte, payload string) string {
	return hex.EncodeToString(HMACSHA256(secret, payload))
}

// HMACSHA256Base64 base64 签名（Bitget）
func HMACSHA256Base64(secret []byte, payload string) string {
	return base64.StdEncoding.EncodeToString(HMACSHA256(secret, payload))
}

// HMACSHA512Hex 十六进制 SHA512 签名（Gate.io）
func HMACSHA512Hex(secret []byte, payload string) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SHA512Hex hashes a request body (Gate.io signs the body digest).
func SHA512Hex(body []byte) string {
	sum := sha512.Sum512(body)
	return hex.EncodeToString(sum[:])
}
