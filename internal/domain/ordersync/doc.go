// Package ordersync contains the order synchronization bounded context.
// It mirrors sales orders held by a remote ERP into the local store.
//
// Key concepts:
//   - OrderSummary: one row per order per account, keyed by (AccountKey, OrderNbr)
//   - OrderLine, OrderAddress, OrderContact, OrderPayment: details owned by a summary
//   - Cutoff window: the rolling date range in which summaries take part in reconciliation
//   - OrderSource: port for reading orders from the ERP
//   - OrderSummaryRepository / OrderDetailRepository: ports for the local store
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package ordersync
