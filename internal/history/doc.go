package history

// Package history implements the download history ledger: a JSON-persisted
// record of completed fetches used to compute the incremental work set of a
// recurring collection (only the items not seen before).
