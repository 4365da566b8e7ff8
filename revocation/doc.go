// Package revocation implements the TTL-based revocation registry with its
// four scopes: single token, user-wide cutoff, session, and tenant-wide
// cutoff. Checks are O(1) point reads batched into one pipeline; entries
// expire on their own once the tokens they cover have expired.
package revocation
