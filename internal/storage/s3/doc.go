/*
Package s3 stores file content in an S3-compatible bucket.

Objects are named <prefix><file_id> and carry the content hash of their bytes in the
vaultstore-content-hash user metadata key. The recorded location of a file is
s3://<bucket>/<prefix><file_id>. The metadata snapshot is not kept in the bucket.

Credentials come from the default AWS chain (environment, shared config, instance role)
unless access_key_id and secret_access_key are configured. Endpoint and force_path_style
allow MinIO and other S3-compatible services:

	store:
	  backend: s3
	  s3:
	    bucket: vault
	    prefix: objects/
	    endpoint: http://localhost:9000
	    force_path_style: true

S3 offers no file-scope locks; writers to the same file are serialized by the conflict
manager and each PutObject replaces the object atomically.
*/
package s3
