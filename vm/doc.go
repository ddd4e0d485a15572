// Package vm implements the smalt runtime core.
//
// This package contains:
//   - NaN-boxed value representation
//   - Object table, generational heap and collector
//   - Classes, metaclasses and method dictionaries
//   - Method lookup with global and send-site caches
//   - Bytecode interpreter over heap-allocated contexts
//   - Blocks, non-local return and on:do: exception handling
//   - Kernel primitives
package vm
