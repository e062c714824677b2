package notify

import "log"

// LogNotifier writes every alert to the injected logger. It is the
// default sink for headless runs.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		panic("notify.LogNotifier: logger cannot be nil")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ev Event) error {
	n.logger.Printf("Notify: %s", ev)
	return nil
}
