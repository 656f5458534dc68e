package mysql

// Note: `trigger` is reserved; keep it quoted everywhere.
const insertDecisionSQL = "INSERT INTO autopilot_decisions\n" +
	"  (decision_id, request_id, unit, `trigger`, reason, success, committed, test_mode, stages, payload, decided_at)\n" +
	"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)\n" +
	"ON DUPLICATE KEY UPDATE\n" +
	"  reason    = VALUES(reason),\n" +
	"  success   = VALUES(success),\n" +
	"  committed = VALUES(committed),\n" +
	"  stages    = VALUES(stages),\n" +
	"  payload   = VALUES(payload)\n"

const insertFeedFetchSQL = `
INSERT INTO feed_fetches
  (unit, platform, url, outcome, events, error, duration_ms, fetched_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?)
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

// Newest first; served by idx_decisions_request.
const listDecisionsSQL = "SELECT decision_id, request_id, unit, `trigger`, reason, success, committed, test_mode, payload, decided_at\n" +
	"FROM autopilot_decisions\n" +
	"WHERE request_id = ?\n" +
	"ORDER BY decided_at DESC, decision_id\n" +
	"LIMIT ?"

const lastFetchSQL = `
SELECT outcome, events, error, fetched_at
FROM feed_fetches
WHERE unit = ? AND platform = ?
ORDER BY fetched_at DESC, id DESC
LIMIT 1
`
