package app

import "strconv"

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBright  = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET":
		return paint(m, ansiGreen, color)
	case "POST":
		return paint(m, ansiBlue, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	return paint(strconv.Itoa(code), statusColor(code), color)
}

func colorizeStatusClass(class string, color bool) string {
	if len(class) == 3 && class[1:] == "xx" {
		return paint(class, statusColor(int(class[0]-'0')*100), color)
	}
	return class
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

// colorizeResult colors the request outcome from requestLogMeta.
func colorizeResult(result string, color bool) string {
	switch result {
	case "success":
		return paint(result, ansiGreen, color)
	case "client_error":
		return paint(result, ansiYellow, color)
	case "server_error":
		return paint(result, ansiRed, color)
	default:
		return paint(result, ansiCyan, color)
	}
}
