// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fetch

import "fmt"

// DiagnosticForError renders the diagnostic text the stream session and
// datagram dispatcher send back when Fetcher.Get itself fails (as opposed
// to succeeding with a non-200 status).
func DiagnosticForError(err error) string {
	return fmt.Sprintf("Issue while loading the data from target server: %s", err)
}
