// Package journal mirrors the day-keyed Companion API journal into local or
// object storage.
//
// Each call to Synchronizer.Run handles at most one day of the trailing
// window: the oldest day not yet tried, or the oldest day still being
// re-checked whose last check is older than the re-check interval. Fetched
// text is split into timestamp segments and only segments not already
// stored verbatim are appended, so the server may resend a whole day on
// every call without producing duplicates.
//
// Day progress moves NotTried → Check1 → Check2 → Done as repeated fetches
// stop producing new segments. A past day without content becomes
// NoContent. The current day never goes beyond Check1.
//
// The progress map is persisted between passes by a ProgressStore: a JSON
// file per identity, a Redis key, or PostgreSQL rows (schema in Migrations).
package journal
