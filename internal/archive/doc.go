// Package archive unpacks release tarballs. Only gzip-compressed tar archives
// are supported; entries that would escape the destination are rejected.
package archive
