package crypto_util

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// CalculateSHA256 计算输入的 SHA256 哈希值。
func CalculateSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// CalculateKeccak256 计算输入的 Keccak256 哈希值。
// 这是以太坊使用的哈希算法。
func CalculateKeccak256(data []byte) string {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

// CalculateBlake3 计算输入的 Blake3 哈希值。
// 批次 ID 由批次内容的 Blake3 哈希派生，保证同一内容重复建批时 ID 可追溯。
func CalculateBlake3(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}
