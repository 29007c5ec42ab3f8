package util

import (
	"strconv"
)

// MustParseUint 将字符串转换为无符号整数，解析失败时返回 0
func MustParseUint(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 32)
	return uint(id)
}

// ParseSlot 解析批改槽位，只接受 1 或 2
func ParseSlot(s string) (int, error) {
	slot, err := strconv.Atoi(s)
	if err != nil || (slot != 1 && slot != 2) {
		return 0, ErrInvalidSlot
	}
	return slot, nil
}
