// Package fileops provides the filesystem operation catalog. Every
// operation resolves its paths through the session scope, so nothing here
// can touch the host filesystem outside the conversation's sandbox.
//
// Operations:
//   - DirectoryCreate: create a directory tree (alternative: incremental)
//   - DirectoryList: list a directory with sizes
//   - FileWrite: write content atomically (alternative: direct)
//   - FileRead: read file contents
//   - FileDelete: delete a file or empty directory
//   - FileStats: stat a path into shared state
//   - Navigate: change the session working directory
package fileops
