// Package speech renders lô tô numbers the way a caller reads them out.
package speech

import (
	"fmt"
	"strings"
)

var digits = [...]string{"không", "một", "hai", "ba", "bốn", "năm", "sáu", "bảy", "tám", "chín", "mười"}

// NumberToWords spells 0..99 in Vietnamese. Out of range values return "".
func NumberToWords(n int) string {
	if n < 0 || n > 99 {
		return ""
	}
	if n <= 10 {
		return digits[n]
	}

	tens, unit := n/10, n%10
	if tens == 1 {
		switch unit {
		case 5:
			return "mười lăm"
		default:
			return "mười " + digits[unit]
		}
	}

	words := digits[tens] + " mươi"
	switch unit {
	case 0:
		return words
	case 1:
		return words + " mốt"
	case 4:
		return words + " tư"
	case 5:
		return words + " lăm"
	default:
		return words + " " + digits[unit]
	}
}

// Rhyme returns the traditional caller phrase for n.
func Rhyme(n int) string {
	if r, ok := rhymes[n]; ok {
		return r
	}
	return "Số " + NumberToWords(n)
}

// Announcement is the full line read out for a draw.
func Announcement(n int) string {
	return fmt.Sprintf("Số %s... %s", NumberToWords(n), Rhyme(n))
}

// WinnerAnnouncement congratulates a confirmed winner.
func WinnerAnnouncement(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Người chơi"
	}
	return name + " đã trúng lô tô! Xin chúc mừng!"
}

// WaitAnnouncement is broadcast when a player is one number away.
func WaitAnnouncement(name string) string {
	return fmt.Sprintf("Người chơi %s đang ĐỢI!", name)
}
