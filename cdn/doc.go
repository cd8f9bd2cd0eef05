// Package cdn resolves whether an S3 bucket is fronted by a CloudFront
// distribution and which principal must be granted read access for the
// bucket's objects to stay reachable through it.
//
// Resolution happens once per publication target. A configuration change
// requires building a new target.
package cdn
