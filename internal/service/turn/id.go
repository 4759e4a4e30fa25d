package turn

import "fmt"

// TurnID formats the id of the n-th turn of a session: <sessionID>-turn-<n>.
func TurnID(sessionID string, n uint64) string {
	return fmt.Sprintf("%s-turn-%d", sessionID, n)
}
