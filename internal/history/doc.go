// Package history models Google Takeout watch-history events and reduces them
// to the time-ordered work-list that the dispatcher drives through the
// side-effecting operation. Filtering, deduplication and sorting are separate,
// pure stages so each can be tested and reasoned about in isolation.
package history
