package notifier

import "github.com/L1nMay/vulnorch/internal/model"

type Notifier interface {
	NotifyScanFinished(rec *model.ScanRecord) error
}
