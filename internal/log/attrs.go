package log

import "log/slog"

func Room(name string) slog.Attr {
	return slog.String("room", name)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func ClientID(id string) slog.Attr {
	return slog.String("client_id", id)
}

func Domain[T ~string](d T) slog.Attr {
	return slog.String("domain", string(d))
}

func State[T ~string](s T) slog.Attr {
	return slog.String("state", string(s))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
