// Package view implements the Table View Cache and Row Views.
//
// A Cache hands out shared, reference-counted TableViews keyed by
// (table, filter descriptor). The first FetchTable of a key issues one
// Select and materializes the ordered sequence of RowViews; later fetches
// share it. Each push notification is applied to every view on its table:
//
//	insert/update, matches, absent   -> insert at the comparator position
//	insert/update, matches, present  -> update in place, move if out of order
//	insert/update, no match, present -> remove
//	delete                           -> remove
//	alter                            -> reload
//
// A RowView is shared by every view that includes its row and is updated
// once per notification. It is disposed when no view owns it and no
// external holder remains, and never revived.
//
// Invariants, after every notification: each view is sorted by its filter
// ordering with ties broken by id ascending; a row appears at most once; a
// row is present iff its latest known data matches the filter.
//
// Structural changes reach TableView subscribers; data changes reach only
// the affected RowView's subscribers. Callbacks run after the cache lock is
// released, in registration order. A callback must not block, and it must
// not call Apply: that would re-enter notification dispatch.
package view
