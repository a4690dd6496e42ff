package service

import (
	"errors"
	"lototet/internal/session"
)

var userMessages = []struct {
	err error
	msg string
}{
	{ErrInvalidRoomCode, "Mã phòng phải có 6 ký tự"},
	{session.ErrRoomNotFound, "Mã phòng không tồn tại. Vui lòng kiểm tra lại."},
	{session.ErrConnectionTimeout, "Không thể kết nối. Nếu dùng 3G/4G, hãy thử chuyển sang cùng WiFi."},
	{session.ErrRoomAllocation, "Không thể tạo phòng. Vui lòng thử lại."},
	{session.ErrNotConnected, "Mất kết nối với chủ xướng"},
	{ErrClaimTooSoon, "Vui lòng đợi 10 giây trước khi Kinh lại!"},
	{ErrNotEligible, "Bạn chưa đủ điều kiện để Kinh!"},
	{ErrGameInProgress, "Không thể đổi vé khi ván đấu đang diễn ra!"},
	{ErrNoSession, "Không có ván chơi nào để vào lại."},
	{ErrNotOnSheet, "Số này không có trên vé của bạn."},
	{ErrPoolExhausted, "Đã hết số!"},
	{ErrDrawInProgress, "Đang xướng số, vui lòng đợi."},
}

// UserMessage turns an error into a notice a player can act on.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Lỗi kết nối: " + err.Error()
}
