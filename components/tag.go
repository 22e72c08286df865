package components

// Dead is a tag component: it carries no data, registered with
// StorageTag so its presence alone (one bit in the header's
// component_mask) marks an entity for the next destruction sweep.
type Dead struct{}
