/*Package interval implements the reference-coordinate plumbing shared by the
  consensus tools: region-string parsing and tiling of a region into the
  fixed-size windows that are processed independently.
  It assumes every position fits in a PosType, which is currently defined as
  int32 since that's what BAM files are limited to.
*/
package interval
