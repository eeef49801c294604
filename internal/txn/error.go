package txn

import "errors"

// ErrFormat means neither meta slot decoded and validated: wrong magic,
// unsupported version, or both integrity transforms failed (spec §6).
var ErrFormat = errors.New("txn: store format mismatch")
