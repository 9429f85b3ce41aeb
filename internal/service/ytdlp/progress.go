package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	progressRe    = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	destinationRe = regexp.MustCompile(`^\[(?:download|Merger)\]\s+(?:Destination:|Merging formats into)\s+"?(.+?)"?$`)
)

// ParseProgressLine 从 yt-dlp 输出行提取百分比
func ParseProgressLine(line string) (float64, bool) {
	if !strings.Contains(line, "%") {
		return 0, false
	}
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// ParseDestination 从输出行提取目标文件路径。
// 合并输出时 Merger 行给出的才是最终文件。
func ParseDestination(line string) (string, bool) {
	m := destinationRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
